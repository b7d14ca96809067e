package common

import "context"

// Gateway sends market orders to a venue. The futures REST client and the
// paper gateway implement it.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
