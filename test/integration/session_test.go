package integration

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatgate/internal/response"
	"github.com/Tyrowin/chatgate/test/testhelpers"
)

// TestLoginWithWrongPassword checks the generic failure and that no session is issued.
func TestLoginWithWrongPassword(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})

	for _, creds := range [][2]string{{"alice", "wrong"}, {"nobody", "password123"}} {
		client := testhelpers.NewHTTPClient(t)

		resp := app.Login(t, client, creds[0], creds[1])
		testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
		var body response.ErrorBody
		testhelpers.DecodeJSON(t, resp, &body)
		if body.Code != response.CodeLoginFailed {
			t.Errorf("%s: expected LoginFailed code, got %+v", creds[0], body)
		}
		if app.SessionCookie(client) != nil {
			t.Errorf("%s: no session cookie may be set on failure", creds[0])
		}

		resp = testhelpers.MakeRequest(t, client, http.MethodGet, app.URL("/private"))
		testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
		_ = resp.Body.Close()
	}
}

// TestLoginSessionSlidesAndExpires walks a session from login to idle expiry.
func TestLoginSessionSlidesAndExpires(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{SessionTTL: time.Minute})
	client := testhelpers.NewHTTPClient(t)

	resp := app.Login(t, client, "alice", "password123")
	testhelpers.AssertStatusCode(t, resp, http.StatusFound)
	if loc := resp.Header.Get("Location"); loc != "/private" {
		t.Errorf("expected redirect to /private, got %q", loc)
	}
	_ = resp.Body.Close()

	cookie := app.SessionCookie(client)
	if cookie == nil {
		t.Fatal("expected a session cookie after login")
	}

	resp = testhelpers.MakeRequest(t, client, http.MethodGet, app.URL("/private"))
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var private map[string]string
	testhelpers.DecodeJSON(t, resp, &private)
	if private["username"] != "alice" {
		t.Errorf("expected username alice, got %v", private)
	}

	// Activity inside the window keeps the session alive.
	app.Clock.Advance(45 * time.Second)
	resp = testhelpers.MakeRequest(t, client, http.MethodGet, app.URL("/private"))
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	app.Clock.Advance(45 * time.Second)
	resp = testhelpers.MakeRequest(t, client, http.MethodGet, app.URL("/private"))
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	// An idle period past the TTL ends it.
	app.Clock.Advance(61 * time.Second)
	resp = testhelpers.MakeRequest(t, client, http.MethodGet, app.URL("/private"))
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
	var body response.ErrorBody
	testhelpers.DecodeJSON(t, resp, &body)
	if body.Code != response.CodeUnauthorized || body.Path != "/private" {
		t.Errorf("unexpected error body %+v", body)
	}
}

// TestLoginWithForm accepts form-encoded credentials.
func TestLoginWithForm(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})
	client := testhelpers.NewHTTPClient(t)

	form := url.Values{"username": {"alice"}, "password": {"password123"}}
	resp, err := client.Post(app.URL("/login"), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusFound)

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == app.Config.Session.CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session cookie")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if sessionCookie.MaxAge != int(app.Config.Session.TTL.Seconds()) {
		t.Errorf("cookie max-age %d does not match ttl %v", sessionCookie.MaxAge, app.Config.Session.TTL)
	}
}

// TestLogoutIsIdempotent logs out twice and checks the session is gone.
func TestLogoutIsIdempotent(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})
	client := testhelpers.NewHTTPClient(t)

	resp := app.Login(t, client, "alice", "password123")
	_ = resp.Body.Close()

	resp = testhelpers.MakeRequest(t, client, http.MethodPost, app.URL("/logout"))
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var out map[string]string
	testhelpers.DecodeJSON(t, resp, &out)
	if out["username"] != "alice" {
		t.Errorf("expected logout of alice, got %v", out)
	}
	if app.Sessions.Len() != 0 {
		t.Errorf("expected no sessions left, got %d", app.Sessions.Len())
	}

	resp = testhelpers.MakeRequest(t, client, http.MethodPost, app.URL("/logout"))
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	_ = resp.Body.Close()

	resp = testhelpers.MakeRequest(t, client, http.MethodGet, app.URL("/private"))
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
	_ = resp.Body.Close()
}

// TestBearerTokenIsAccepted allows non-browser clients to present the token in a header.
func TestBearerTokenIsAccepted(t *testing.T) {
	app := testhelpers.NewApp(t, testhelpers.Options{})
	client := testhelpers.NewHTTPClient(t)

	resp := app.Login(t, client, "alice", "password123")
	_ = resp.Body.Close()
	token := app.SessionCookie(client).Value

	req, _ := http.NewRequest(http.MethodGet, app.URL("/private"), http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
}
