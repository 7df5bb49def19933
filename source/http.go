package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3/client"
	"github.com/songzhibin97/workflow-canvas/types"
)

// HTTPSource reads items from a JSON endpoint:
//
//	GET   {base}/items?page=&filter=
//	PATCH {base}/items/{id}/position
type HTTPSource struct {
	client *client.Client
}

// NewHTTPSource targets baseURL. timeout <= 0 keeps the client default.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	c := client.New().SetBaseURL(strings.TrimRight(baseURL, "/"))
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPSource{client: c}
}

type errorBody struct {
	Error string `json:"error"`
}

func statusError(resp *client.Response, what string) error {
	var body errorBody
	msg := strings.TrimSpace(string(resp.Body()))
	if err := resp.JSON(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return fmt.Errorf("%s: status %d: %s", what, resp.StatusCode(), msg)
}

// List fetches the items passing filter.
func (s *HTTPSource) List(ctx context.Context, filter Filter) ([]types.ExternalItem, error) {
	params := map[string]string{}
	if filter.Page != "" {
		params["page"] = filter.Page
	}
	if filter.Expr != "" {
		params["filter"] = filter.Expr
	}
	resp, err := s.client.Get("/items", client.Config{Ctx: ctx, Param: params})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp, "list items")
	}
	var items []types.ExternalItem
	if err := resp.JSON(&items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	return items, nil
}

// UpdatePosition writes a node position back to its item.
func (s *HTTPSource) UpdatePosition(ctx context.Context, id string, position types.Point) error {
	resp, err := s.client.Patch("/items/:id/position", client.Config{
		Ctx:       ctx,
		PathParam: map[string]string{"id": url.PathEscape(id)},
		Body:      position,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Close()

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: id=%s", ErrItemNotFound, id)
	}
	return statusError(resp, "update position")
}

var (
	_ ItemSource      = (*HTTPSource)(nil)
	_ PositionUpdater = (*HTTPSource)(nil)
)
