package rpcpb

import "context"

type AuthenticateRequest struct {
	Name     string
	Password string
}

type AuthenticateResponse struct {
	Header ResponseHeader
	Token  string
}

type AuthClient interface {
	Authenticate(ctx context.Context, in *AuthenticateRequest) (*AuthenticateResponse, error)
}
