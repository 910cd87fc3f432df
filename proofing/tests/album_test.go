package tests

import (
	"errors"
	"testing"
)

func TestAlbumCrud(t *testing.T) {
	env := setupTestEnv(t)

	photographer, err := env.newUserWithRole("shooter", "photographer")
	if err != nil {
		t.Fatal(err)
	}

	album, err := photographer.createAlbum("spring wedding")
	if err != nil {
		t.Fatal(err)
	}
	if album.DisplayMode != "grid" {
		t.Fatalf("expected default display mode grid, got %v", album.DisplayMode)
	}
	if album.OwnerId != photographer.userId {
		t.Fatalf("unexpected owner %v", album.OwnerId)
	}

	albums, err := photographer.listAlbums()
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].Id != album.Id {
		t.Fatalf("unexpected album list %+v", albums)
	}

	if err := photographer.updateAlbum(album.Id, map[string]string{"description": "june 2026", "displayMode": "filmstrip"}); err != nil {
		t.Fatal(err)
	}

	detail, err := photographer.albumInfo(album.Id)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Description != "june 2026" || detail.DisplayMode != "filmstrip" {
		t.Fatalf("unexpected album detail %+v", detail)
	}

	err = photographer.updateAlbum(album.Id, map[string]string{"displayMode": "carousel"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for invalid display mode, got %v", err)
	}
	err = photographer.updateAlbum(album.Id, map[string]string{"name": ""})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for empty name, got %v", err)
	}

	if err := photographer.deleteAlbum(album.Id); err != nil {
		t.Fatal(err)
	}
	if _, err := photographer.albumInfo(album.Id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientsCannotCreateAlbums(t *testing.T) {
	env := setupTestEnv(t)

	c, err := env.newUser("viewer")
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.createAlbum("sneaky")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	_, err = c.listAlbums()
	if err != nil {
		t.Fatal(err)
	}
}

func TestAlbumCollaborators(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("albumowner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.newUserWithRole("secondshooter", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("justlooking")
	if err != nil {
		t.Fatal(err)
	}

	album, err := owner.createAlbum("collab test")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.addCollaborator(album.Id, second.userId); err != nil {
		t.Fatal(err)
	}

	if err := owner.addCollaborator(album.Id, second.userId); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate collaborator, got %v", err)
	}
	if err := owner.addCollaborator(album.Id, viewer.userId); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for client collaborator, got %v", err)
	}
	if err := owner.addCollaborator(album.Id, owner.userId); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for owner as collaborator, got %v", err)
	}

	detail, err := owner.albumInfo(album.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Collaborators) != 1 || detail.Collaborators[0].Id != second.userId {
		t.Fatalf("unexpected collaborators %+v", detail.Collaborators)
	}

	if err := owner.removeCollaborator(album.Id, second.userId); err != nil {
		t.Fatal(err)
	}
	// Removing an absent collaborator reports success.
	if err := owner.removeCollaborator(album.Id, second.userId); err != nil {
		t.Fatal(err)
	}

	detail, err = owner.albumInfo(album.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Collaborators) != 0 {
		t.Fatalf("expected no collaborators, got %+v", detail.Collaborators)
	}
}

func TestAlbumClients(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("clientowner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.newUserWithRole("notaclient", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("invitedclient")
	if err != nil {
		t.Fatal(err)
	}

	album, err := owner.createAlbum("client test")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.addClient(album.Id, viewer.userId); err != nil {
		t.Fatal(err)
	}
	if err := owner.addClient(album.Id, viewer.userId); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate client, got %v", err)
	}
	if err := owner.addClient(album.Id, second.userId); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for photographer client, got %v", err)
	}

	detail, err := owner.albumInfo(album.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Clients) != 1 || detail.Clients[0].Id != viewer.userId {
		t.Fatalf("unexpected clients %+v", detail.Clients)
	}

	if err := owner.removeClient(album.Id, viewer.userId); err != nil {
		t.Fatal(err)
	}
	if _, err := viewer.albumInfo(album.Id); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden after removal, got %v", err)
	}
}

func TestAlbumListVisibility(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("visowner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	collaborator, err := env.newUserWithRole("viscollab", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("visclient")
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := env.newUser("visstranger")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	album, err := owner.createAlbum("shared album")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addCollaborator(album.Id, collaborator.userId); err != nil {
		t.Fatal(err)
	}
	if err := owner.addClient(album.Id, viewer.userId); err != nil {
		t.Fatal(err)
	}

	for name, c := range map[string]client{"owner": owner, "collaborator": collaborator, "client": viewer, "admin": admin} {
		albums, err := c.listAlbums()
		if err != nil {
			t.Fatal(err)
		}
		if len(albums) != 1 || albums[0].Id != album.Id {
			t.Fatalf("%v should see the album, got %+v", name, albums)
		}
	}

	albums, err := stranger.listAlbums()
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 0 {
		t.Fatalf("stranger should see no albums, got %+v", albums)
	}
}
