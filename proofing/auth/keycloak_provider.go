package auth

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"suipic/proofing/schema"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type KeycloakIdentityProvider struct {
	keycloak *gocloak.GoCloak
	db       *gorm.DB
	auditLog AuditLogger

	realm  string
	issuer string

	adminUsername, adminPassword string

	// Realm signing keys are fetched lazily on first use and refreshed when a
	// token arrives with an unknown key id, so key rotation does not require a
	// restart.
	keysMu sync.RWMutex
	keys   map[string]*rsa.PublicKey
}

type KeycloakArgs struct {
	KeycloakServerUrl string
	Realm             string

	KeycloakAdminUsername string
	KeycloakAdminPassword string

	// AdminIdentityKey is the subject of the bootstrap admin account in the
	// identity realm.
	AdminIdentityKey string
	AdminEmail       string

	SkipTlsVerify bool
	Verbose       bool
}

func adminLogin(client *gocloak.GoCloak, adminUsername, adminPassword string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The "master" realm is the default admin realm in Keycloak.
	adminToken, err := client.LoginAdmin(ctx, adminUsername, adminPassword, "master")
	if err != nil {
		return "", fmt.Errorf("error during keycloak admin login: %w", err)
	}
	return adminToken.AccessToken, nil
}

func NewKeycloakIdentityProvider(db *gorm.DB, auditLog AuditLogger, args KeycloakArgs) (IdentityProvider, error) {
	client := gocloak.NewClient(args.KeycloakServerUrl)
	restyClient := client.RestyClient()
	restyClient.SetDebug(args.Verbose)

	if args.SkipTlsVerify {
		restyClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	err := addInitialAdminToDb(db, uuid.New(), args.AdminIdentityKey, args.AdminEmail, nil)
	if err != nil {
		slog.Error("KEYCLOAK: adding bootstrap admin to db failed", "error", err)
		return nil, err
	}

	return &KeycloakIdentityProvider{
		keycloak:      client,
		db:            db,
		auditLog:      auditLog,
		realm:         args.Realm,
		issuer:        fmt.Sprintf("%v/realms/%v", strings.TrimRight(args.KeycloakServerUrl, "/"), args.Realm),
		adminUsername: args.KeycloakAdminUsername,
		adminPassword: args.KeycloakAdminPassword,
	}, nil
}

// RefreshSigningKeys replaces the cached realm signing keys with the current
// set published by the identity server.
func (auth *KeycloakIdentityProvider) RefreshSigningKeys(ctx context.Context) error {
	certs, err := auth.keycloak.GetCerts(ctx, auth.realm)
	if err != nil {
		return fmt.Errorf("error fetching realm certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	if certs.Keys != nil {
		for _, key := range *certs.Keys {
			if key.Kty == nil || *key.Kty != "RSA" || key.Kid == nil || key.N == nil || key.E == nil {
				continue
			}
			pub, err := rsaKeyFromJwk(*key.N, *key.E)
			if err != nil {
				slog.Error("error parsing realm signing key", "kid", *key.Kid, "error", err)
				continue
			}
			keys[*key.Kid] = pub
		}
	}

	if len(keys) == 0 {
		return fmt.Errorf("no usable signing keys published for realm %v", auth.realm)
	}

	auth.keysMu.Lock()
	auth.keys = keys
	auth.keysMu.Unlock()

	return nil
}

func rsaKeyFromJwk(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("invalid key modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("invalid key exponent: %w", err)
	}

	exponent := big.NewInt(0).SetBytes(eBytes)
	if !exponent.IsInt64() {
		return nil, fmt.Errorf("key exponent out of range")
	}

	return &rsa.PublicKey{N: big.NewInt(0).SetBytes(nBytes), E: int(exponent.Int64())}, nil
}

func (auth *KeycloakIdentityProvider) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	auth.keysMu.RLock()
	key, ok := auth.keys[kid]
	auth.keysMu.RUnlock()
	if ok {
		return key, nil
	}

	if err := auth.RefreshSigningKeys(ctx); err != nil {
		return nil, err
	}

	auth.keysMu.RLock()
	key, ok = auth.keys[kid]
	auth.keysMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("token signed with unknown key %v", kid)
	}
	return key, nil
}

// verifyToken validates the signature, expiry, and issuer of an identity token
// and returns its subject.
func (auth *KeycloakIdentityProvider) verifyToken(ctx context.Context, tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr,
		func(t *jwt.Token) (interface{}, error) {
			kid, ok := t.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("token missing kid header")
			}
			return auth.signingKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(auth.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid identity token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("identity token missing subject")
	}

	return sub, nil
}

func getToken(r *http.Request) (string, error) {
	if token := jwtauth.TokenFromHeader(r); token != "" {
		return token, nil
	}
	if token := jwtauth.TokenFromCookie(r); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("unable to find auth token")
}

func (auth *KeycloakIdentityProvider) middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			token, err := getToken(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()

			identityKey, err := auth.verifyToken(ctx, token)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			user, err := schema.GetUserByIdentityKey(identityKey, auth.db)
			if err != nil {
				if errors.Is(err, schema.ErrUserNotFound) {
					http.Error(w, ErrIdentityNotSynced.Error(), http.StatusUnauthorized)
					return
				}
				http.Error(w, fmt.Sprintf("unable to find user for identity: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
				return
			}

			reqCtx := context.WithValue(r.Context(), UserRequestContextKey, user)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *KeycloakIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.middleware(), auth.auditLog.Middleware}
}

func (auth *KeycloakIdentityProvider) AllowDirectSignup() bool {
	return false
}

func (auth *KeycloakIdentityProvider) LoginWithEmail(email, password string) (LoginResult, error) {
	return LoginResult{}, fmt.Errorf("login with email is not supported for this identity provider")
}

func (auth *KeycloakIdentityProvider) SetPassword(user schema.User, password string) error {
	if strings.HasPrefix(user.IdentityKey, "pending-") {
		// The account has no identity server record until its first sync.
		slog.Info("KEYCLOAK: skipping password for unsynced account", "user_id", user.Id)
		return nil
	}

	adminToken, err := adminLogin(auth.keycloak, auth.adminUsername, auth.adminPassword)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = auth.keycloak.SetPassword(ctx, adminToken, user.IdentityKey, auth.realm, password, false)
	if err != nil {
		slog.Error("failed to set password with keycloak", "user_id", user.Id, "error", err)
		return fmt.Errorf("failed to set password with keycloak: %w", err)
	}

	return nil
}
