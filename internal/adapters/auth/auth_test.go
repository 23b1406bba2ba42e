package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/adapters/auth"
	"github.com/okian/scoreboard/internal/adapters/storage/memory"
	"github.com/okian/scoreboard/internal/domain/model"
)

var secret = []byte("test-secret")

func TestJWTResolver(t *testing.T) {
	ctx := context.Background()

	Convey("Given an issuer and a resolver sharing a secret", t, func() {
		now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		issuer := auth.NewIssuer(secret, auth.WithIssuer("scoreboard"), auth.WithTTL(time.Hour), auth.WithClock(clock))
		resolver := auth.NewJWTResolver(secret, auth.WithIssuer("scoreboard"), auth.WithClock(clock), auth.WithLeeway(0))

		Convey("When a token carries both identities", func() {
			tok, err := issuer.Issue(model.IdentityClaim{PlayerID: "p1", LegacyUserID: "zzz"})
			So(err, ShouldBeNil)
			claim, err := resolver.Resolve(ctx, tok)

			Convey("Then both are resolved", func() {
				So(err, ShouldBeNil)
				So(claim.PlayerID, ShouldEqual, "p1")
				So(claim.LegacyUserID, ShouldEqual, "zzz")
			})
		})

		Convey("When the token has expired", func() {
			tok, _ := issuer.Issue(model.IdentityClaim{PlayerID: "p1"})
			later := auth.NewJWTResolver(secret, auth.WithIssuer("scoreboard"), auth.WithLeeway(0),
				auth.WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
			_, err := later.Resolve(ctx, tok)
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "expired")
		})

		Convey("When the signature is wrong", func() {
			tok, _ := auth.NewIssuer([]byte("other"), auth.WithIssuer("scoreboard"), auth.WithClock(clock)).
				Issue(model.IdentityClaim{PlayerID: "p1"})
			_, err := resolver.Resolve(ctx, tok)
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
		})

		Convey("When the issuer differs", func() {
			tok, _ := auth.NewIssuer(secret, auth.WithIssuer("elsewhere"), auth.WithClock(clock)).
				Issue(model.IdentityClaim{PlayerID: "p1"})
			_, err := resolver.Resolve(ctx, tok)
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
		})

		Convey("When the algorithm is not HS256", func() {
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, auth.Claims{
				PlayerID: "p1",
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "scoreboard",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			}).SignedString(secret)
			_, err := resolver.Resolve(ctx, tok)
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
		})

		Convey("When the token carries no identity", func() {
			tok, _ := issuer.Issue(model.IdentityClaim{})
			_, err := resolver.Resolve(ctx, tok)
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
		})

		Convey("When the token is garbage or empty", func() {
			_, err := resolver.Resolve(ctx, "not.a.jwt")
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
			_, err = resolver.Resolve(ctx, "")
			So(errors.Is(err, model.ErrInvalidCredential), ShouldBeTrue)
		})
	})
}

func TestLegacyVerifier(t *testing.T) {
	ctx := context.Background()

	Convey("Given the legacy directory holds one user", t, func() {
		users := memory.New()
		So(users.PutLegacyUser(ctx, model.LegacyUser{
			ID:             "zzz",
			Username:       "ABC",
			Email:          "abc@test.test",
			HashedPassword: "$2a$08$slf.HjrpyEjFgg/HvVW0FuWzCoRNI8eW0Ei4PM.5o6ImHt7lA/Xze",
		}), ShouldBeNil)
		v := auth.NewLegacyVerifier(users, "__dummy_api_key__")

		Convey("When the api key is checked", func() {
			So(v.CheckAPIKey("__dummy_api_key__"), ShouldBeNil)
			So(errors.Is(v.CheckAPIKey("bad"), model.ErrBadAPIKey), ShouldBeTrue)
		})

		Convey("When credentials match by username or email", func() {
			u, err := v.Verify(ctx, "ABC", "meow")
			So(err, ShouldBeNil)
			So(u.ID, ShouldEqual, "zzz")
			u, err = v.Verify(ctx, "abc@test.test", "meow")
			So(err, ShouldBeNil)
			So(u.Username, ShouldEqual, "ABC")
		})

		Convey("When the user is unknown or the password wrong", func() {
			_, unknown := v.Verify(ctx, "ABCX", "meow")
			_, wrong := v.Verify(ctx, "ABC", "meoww")
			So(errors.Is(unknown, model.ErrInvalidCredential), ShouldBeTrue)
			So(errors.Is(wrong, model.ErrInvalidCredential), ShouldBeTrue)
			So(errors.Is(wrong, model.ErrUnauthorized), ShouldBeFalse)
		})
	})

	Convey("An unconfigured api key rejects everything", t, func() {
		v := auth.NewLegacyVerifier(memory.New(), "")
		So(errors.Is(v.CheckAPIKey(""), model.ErrBadAPIKey), ShouldBeTrue)
	})
}
