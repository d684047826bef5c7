package backend

import (
	"context"
	"net/http"
	"net/url"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
)

// Program fetches a loyalty program with its rewards, cached.
func (c *Client) Program(ctx context.Context, id string) (*program.Program, error) {
	return c.programs.GetOrLoad(ctx, id, func(ctx context.Context) (*program.Program, error) {
		var out program.Program
		if err := c.send(ctx, http.MethodGet, "/api/v1/programs/"+url.PathEscape(id), nil, &out, ierr.ErrConnectivityLost); err != nil {
			return nil, err
		}
		return &out, nil
	})
}
