package grpc

import (
	"errors"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var codeOf = []struct {
	err  error
	code codes.Code
}{
	{common.ErrValidation, codes.InvalidArgument},
	{common.ErrInsufficientCredits, codes.FailedPrecondition},
	{common.ErrorNotFound, codes.NotFound},
	{common.ErrRateLimited, codes.ResourceExhausted},
	{common.ErrProviderUnavailable, codes.Unavailable},
	{common.ErrPersistenceUnavailable, codes.Unavailable},
	{common.ErrCancelled, codes.Canceled},
	{common.ErrorForbidden, codes.PermissionDenied},
	{common.ErrorUnauthorized, codes.Unauthenticated},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrTokenExpired, codes.Unauthenticated},
}

// toStatus maps a gateway error onto a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range codeOf {
		if errors.Is(err, c.err) {
			return status.Error(c.code, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}
