package tests

import (
	"context"
	"errors"
	"testing"

	"suipic/proofing/schema"
	"suipic/proofing/storage"
)

func TestSignupAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	login, err := c.signup("rena@mail.com", "rena_password")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.login(login); err != nil {
		t.Fatal(err)
	}

	info, err := c.userInfo(c.userId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Email != "rena@mail.com" || info.Role != "client" {
		t.Fatalf("unexpected user info %+v", info)
	}
}

func TestLoginFailures(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	login, err := c.signup("user@mail.com", "user_password")
	if err != nil {
		t.Fatal(err)
	}

	err = c.login(loginInfo{Email: login.Email, Password: "wrong_password"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	err = c.login(loginInfo{Email: "nobody@mail.com", Password: "whatever"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicateEmailSignup(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	if _, err := c.signup("dup@mail.com", "password1"); err != nil {
		t.Fatal(err)
	}

	_, err := c.signup("dup@mail.com", "password2")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRoleProvisioning(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	photographer, err := admin.createUser("photo@mail.com", "photographer", "photo_password")
	if err != nil {
		t.Fatal(err)
	}
	if photographer.Role != "photographer" {
		t.Fatalf("unexpected role %v", photographer.Role)
	}

	pc := env.newClient()
	if err := pc.login(loginInfo{Email: "photo@mail.com", Password: "photo_password"}); err != nil {
		t.Fatal(err)
	}

	// Photographers may invite clients but not other photographers or admins.
	if _, err := pc.createUser("invited@mail.com", "client", "invited_password"); err != nil {
		t.Fatal(err)
	}
	if _, err := pc.createUser("other@mail.com", "photographer", "pwd"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := pc.createUser("other@mail.com", "admin", "pwd"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	cc, err := env.newUser("plainclient")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cc.createUser("more@mail.com", "client", "pwd"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if _, err := admin.createUser("bad@mail.com", "owner", "pwd"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for invalid role, got %v", err)
	}
}

func TestListUsersScoped(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	photographer, err := env.newUserWithRole("lister", "photographer")
	if err != nil {
		t.Fatal(err)
	}

	invited, err := photographer.createUser("invitee@mail.com", "client", "invitee_password")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.newUser("outsider"); err != nil {
		t.Fatal(err)
	}

	all, err := admin.listUsers("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 users, got %d", len(all))
	}

	photographers, err := admin.listUsers("?role=photographer")
	if err != nil {
		t.Fatal(err)
	}
	if len(photographers) != 1 || photographers[0].Email != "lister@mail.com" {
		t.Fatalf("unexpected photographer list %+v", photographers)
	}

	mine, err := photographer.listUsers("")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Id != invited.Id {
		t.Fatalf("expected only invited client, got %+v", mine)
	}

	cc, err := env.newUser("curious")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cc.listUsers(""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdateUser(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	c, err := env.newUser("updatable")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.updateUser(c.userId, map[string]string{"firstName": "Akari", "lastName": "Mizuno"}); err != nil {
		t.Fatal(err)
	}

	info, err := c.userInfo(c.userId)
	if err != nil {
		t.Fatal(err)
	}
	if info.FirstName != "Akari" || info.LastName != "Mizuno" {
		t.Fatalf("unexpected names %+v", info)
	}

	// Role changes are admin only.
	err = c.updateUser(c.userId, map[string]string{"role": "photographer"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := admin.updateUser(c.userId, map[string]string{"role": "photographer"}); err != nil {
		t.Fatal(err)
	}

	info, err = c.userInfo(c.userId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Role != "photographer" {
		t.Fatalf("expected promoted role, got %v", info.Role)
	}

	other, err := env.newUser("someoneelse")
	if err != nil {
		t.Fatal(err)
	}
	err = c.updateUser(other.userId, map[string]string{"firstName": "Nope"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	err = c.updateUser(c.userId, map[string]string{"email": "someoneelse@mail.com"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	c, err := env.newUser("doomed")
	if err != nil {
		t.Fatal(err)
	}

	other, err := env.newUser("bystander")
	if err != nil {
		t.Fatal(err)
	}

	if err := other.deleteUser(c.userId); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if err := admin.deleteUser(admin.userId); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for self delete, got %v", err)
	}

	if err := admin.deleteUser(c.userId); err != nil {
		t.Fatal(err)
	}

	if _, err := admin.userInfo(c.userId); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	err = c.login(loginInfo{Email: "doomed@mail.com", Password: "doomed_password"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeleteUserCascadesAuthoredContent(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	owner, err := env.newUserWithRole("owner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	helper, err := env.newUserWithRole("helper", "photographer")
	if err != nil {
		t.Fatal(err)
	}

	album, err := owner.createAlbum("Wedding")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addCollaborator(album.Id, helper.userId); err != nil {
		t.Fatal(err)
	}

	ownerImage, err := owner.uploadImage(album.Id, "a.png", "image/png", "", pngBytes(t, 64, 48))
	if err != nil {
		t.Fatal(err)
	}
	helperImage, err := helper.uploadImage(album.Id, "b.png", "image/png", "", pngBytes(t, 64, 48))
	if err != nil {
		t.Fatal(err)
	}

	var record schema.Image
	if err := env.db.First(&record, "id = ?", helperImage.Id).Error; err != nil {
		t.Fatal(err)
	}

	top, err := helper.addComment(ownerImage.Id, "thoughts on this one?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.addComment(ownerImage.Id, "keeping it", &top.Id); err != nil {
		t.Fatal(err)
	}

	if err := admin.deleteUser(helper.userId); err != nil {
		t.Fatal(err)
	}

	// The collaborator's image in the surviving album is gone, record and object.
	if _, err := owner.imageDetail(helperImage.Id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.store.Get(context.Background(), record.StorageKey); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected object to be deleted, got %v", err)
	}

	// The reply under the deleted user's comment does not survive as an orphan.
	comments, err := owner.listComments(ownerImage.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 0 {
		t.Fatalf("expected no comments, got %+v", comments)
	}

	// The owner's own image is untouched.
	if _, err := owner.imageDetail(ownerImage.Id); err != nil {
		t.Fatal(err)
	}

	summary, err := owner.albumSummary(album.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Images) != 1 {
		t.Fatalf("expected 1 image in summary, got %d", len(summary.Images))
	}
}

func TestUserInfoVisibility(t *testing.T) {
	env := setupTestEnv(t)

	photographer, err := env.newUserWithRole("owner", "photographer")
	if err != nil {
		t.Fatal(err)
	}

	invited, err := photographer.createUser("theirclient@mail.com", "client", "theirclient_password")
	if err != nil {
		t.Fatal(err)
	}

	// The creating photographer can see accounts they provisioned.
	if _, err := photographer.userInfo(invited.Id); err != nil {
		t.Fatal(err)
	}

	stranger, err := env.newUser("stranger")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stranger.userInfo(invited.Id); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if _, err := stranger.userInfo("00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
