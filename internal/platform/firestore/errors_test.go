package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code codes.Code
		want Kind
	}{
		{codes.NotFound, KindNotFound},
		{codes.AlreadyExists, KindConflict},
		{codes.Aborted, KindConflict},
		{codes.FailedPrecondition, KindConflict},
		{codes.Unavailable, KindUnavailable},
		{codes.ResourceExhausted, KindUnavailable},
		{codes.PermissionDenied, KindUnknown},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.Kind != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.code, tc.want, repoErr.Kind)
		}
		if repoErr.Op != "orders.get" {
			t.Fatalf("%s: expected op to be kept, got %q", tc.code, repoErr.Op)
		}
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "client gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("nil must stay nil, got %v", err)
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	base := NotFound("", "coupon %q not found", "SAVE10")
	err := WrapError("coupons.findByCode", base)
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
	if err.Error() != `coupons.findByCode: coupon "SAVE10" not found` {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if WrapError("other", err).(*Error).Op != "coupons.findByCode" {
		t.Fatalf("op of an already wrapped error must not change")
	}
}
