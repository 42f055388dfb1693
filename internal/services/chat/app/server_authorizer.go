package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/emberchat/ember/internal/platform/timeouts"
	"github.com/emberchat/ember/internal/services/shared/authclient"
)

// identityResolver maps bearer tokens onto display identities. The auth
// introspection client satisfies it; tests swap in a fake.
type identityResolver interface {
	Resolve(ctx context.Context, accessToken string) (authclient.Identity, error)
}

// membership is the room directory's answer for one (room, user) pair.
type membership struct {
	Member        bool `json:"member"`
	CanSeeHistory bool `json:"can_see_history"`
}

// membershipOracle answers room membership queries. Callers treat any error
// as "not a member".
type membershipOracle interface {
	Membership(ctx context.Context, roomID int64, userID string) (membership, error)
}

// roomsOracle queries the rooms service's internal membership endpoint.
type roomsOracle struct {
	baseURL        string
	resourceSecret string
	httpClient     *http.Client
}

func newRoomsOracle(baseURL, resourceSecret string) *roomsOracle {
	baseURL = strings.TrimSpace(baseURL)
	resourceSecret = strings.TrimSpace(resourceSecret)
	if baseURL == "" || resourceSecret == "" {
		return nil
	}
	return &roomsOracle{
		baseURL:        strings.TrimRight(baseURL, "/"),
		resourceSecret: resourceSecret,
		httpClient:     &http.Client{Timeout: timeouts.HTTPClient},
	}
}

// Membership returns the point-in-time membership record for one user.
func (o *roomsOracle) Membership(ctx context.Context, roomID int64, userID string) (membership, error) {
	if o == nil || o.httpClient == nil {
		return membership{}, errors.New("rooms oracle is not configured")
	}
	userID = strings.TrimSpace(userID)
	if roomID <= 0 || userID == "" {
		return membership{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.MembershipQuery)
	defer cancel()

	endpoint := fmt.Sprintf("%s/internal/rooms/%d/members/%s", o.baseURL, roomID, userID)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return membership{}, fmt.Errorf("build membership request: %w", err)
	}
	req.Header.Set("X-Resource-Secret", o.resourceSecret)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return membership{}, fmt.Errorf("call rooms membership: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return membership{}, fmt.Errorf("rooms membership status %d", resp.StatusCode)
	}

	var payload membership
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return membership{}, fmt.Errorf("decode membership response: %w", err)
	}
	return payload, nil
}
