// Package profile fetches subject context (adaptation profile, emergency
// contacts, safety-plan seed) from the external profile service. The fetch
// happens once at workflow creation; the result is read-only afterwards.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/pkg/circuit"
)

// Client talks to the profile/contact service over HTTP, behind a circuit
// breaker so a down profile service cannot stall workflow intake.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
}

// NewClient builds a profile client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "profile-service",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
	}
}

// SubjectContext fetches the subject's context. Any failure (including an
// open breaker or a missing record) falls back to defaults: intake must never
// be blocked on the profile service.
func (c *Client) SubjectContext(ctx context.Context, subjectID string) (crisis.SubjectContext, error) {
	var sc crisis.SubjectContext

	err := c.breaker.Execute(ctx, func() error {
		u := fmt.Sprintf("%s/api/v1/subjects/%s/context", c.baseURL, url.PathEscape(subjectID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			sc = crisis.DefaultSubjectContext()
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("profile service returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&sc)
	})
	if err != nil {
		return crisis.DefaultSubjectContext(), err
	}
	return sc.Normalized(), nil
}
