package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"ChatScribe/internal/config"
	"ChatScribe/internal/domain"
	"ChatScribe/internal/ports"
)

const userAgent = "ChatScribe/1.0"

// Client talks to a MediaWiki instance through its action API.
// Pages are keyed by title; no revision conflict handling, last write wins.
type Client struct {
	apiURL     string
	username   string
	password   string
	httpClient *http.Client
	csrfToken  string
	logger     *slog.Logger
}

var _ ports.Publisher = (*Client)(nil)

// NewClient builds an unauthenticated client; call Login before use.
func NewClient(cfg config.WikiConfig, log *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &Client{
		apiURL:   strings.TrimRight(cfg.URL, "/") + "/api.php",
		username: cfg.Username,
		password: cfg.Password,
		logger:   log,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
	}, nil
}

// Login performs the token handshake and caches the CSRF token used for
// edits. Failure here aborts startup.
func (c *Client) Login(ctx context.Context) error {
	loginToken, err := c.fetchToken(ctx, "login")
	if err != nil {
		return fmt.Errorf("login token: %w", err)
	}

	form := url.Values{}
	form.Set("action", "login")
	form.Set("lgname", c.username)
	form.Set("lgpassword", c.password)
	form.Set("lgtoken", loginToken)
	form.Set("format", "json")

	var login struct {
		Login struct {
			Result string `json:"result"`
		} `json:"login"`
	}
	if err := c.postForm(ctx, form, &login); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if login.Login.Result != "Success" {
		return fmt.Errorf("login rejected: %s", login.Login.Result)
	}

	c.csrfToken, err = c.fetchToken(ctx, "csrf")
	if err != nil {
		return fmt.Errorf("csrf token: %w", err)
	}

	c.debug("wiki login complete", "user", c.username)
	return nil
}

// Exists reports whether a page with the given title is present.
func (c *Client) Exists(ctx context.Context, title string) (bool, error) {
	_, err := c.Read(ctx, title)
	if errors.Is(err, ports.ErrPageNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Read returns the current wikitext of a page or ErrPageNotFound.
func (c *Client) Read(ctx context.Context, title string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "revisions")
	params.Set("rvprop", "content")
	params.Set("rvslots", "main")
	params.Set("titles", title)
	params.Set("format", "json")
	params.Set("formatversion", "2")

	var reply struct {
		Query struct {
			Pages []struct {
				Missing   bool `json:"missing"`
				Revisions []struct {
					Slots struct {
						Main struct {
							Content string `json:"content"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.get(ctx, params, &reply); err != nil {
		return "", &ports.PublicationError{Title: title, Err: err}
	}

	if len(reply.Query.Pages) == 0 || reply.Query.Pages[0].Missing {
		return "", ports.ErrPageNotFound
	}
	page := reply.Query.Pages[0]
	if len(page.Revisions) == 0 {
		return "", ports.ErrPageNotFound
	}

	return page.Revisions[0].Slots.Main.Content, nil
}

// Write saves the unit to its page. Append concatenates after the existing
// body separated by a blank line; a missing page degrades to creation.
// Returns the title that became the publication key.
func (c *Client) Write(ctx context.Context, unit domain.PublicationUnit, editSummary string) (string, error) {
	body := unit.Body

	if unit.Mode == domain.ModeAppend {
		current, err := c.Read(ctx, unit.Title)
		switch {
		case errors.Is(err, ports.ErrPageNotFound):
			// Creation: nothing to append to.
		case err != nil:
			return "", err
		default:
			body = current + "\n\n" + unit.Body
		}
	}

	form := url.Values{}
	form.Set("action", "edit")
	form.Set("title", unit.Title)
	form.Set("text", body)
	form.Set("summary", editSummary)
	form.Set("token", c.csrfToken)
	form.Set("format", "json")

	var reply struct {
		Edit struct {
			Result string `json:"result"`
		} `json:"edit"`
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := c.postForm(ctx, form, &reply); err != nil {
		return "", &ports.PublicationError{Title: unit.Title, Err: err}
	}
	if reply.Error != nil {
		return "", &ports.PublicationError{
			Title: unit.Title,
			Err:   fmt.Errorf("%s: %s", reply.Error.Code, reply.Error.Info),
		}
	}
	if reply.Edit.Result != "Success" {
		return "", &ports.PublicationError{
			Title: unit.Title,
			Err:   fmt.Errorf("edit result %q", reply.Edit.Result),
		}
	}

	c.debug("page saved", "title", unit.Title, "mode", string(unit.Mode))
	return unit.Title, nil
}

func (c *Client) fetchToken(ctx context.Context, kind string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("meta", "tokens")
	params.Set("type", kind)
	params.Set("format", "json")

	var reply struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	if err := c.get(ctx, params, &reply); err != nil {
		return "", err
	}

	token, ok := reply.Query.Tokens[kind+"token"]
	if !ok || token == "" {
		return "", fmt.Errorf("no %s token in reply", kind)
	}
	return token, nil
}

func (c *Client) get(ctx context.Context, params url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	return c.do(req, v)
}

func (c *Client) postForm(ctx context.Context, form url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("wiki error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
