package awsclients

import (
	"errors"

	"github.com/aws/smithy-go"
)

// errorCode extracts the provider's error code, or "" for non-API errors.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isRoleAssumptionFailure reports whether the call failed while obtaining
// credentials for a target account, as opposed to failing in the target
// service itself.
func isRoleAssumptionFailure(err error) bool {
	var opErr *smithy.OperationError
	for errors.As(err, &opErr) {
		if opErr.ServiceID == "STS" {
			return true
		}
		err = opErr.Unwrap()
	}
	switch errorCode(err) {
	case "AccessDenied", "AccessDeniedException", "ExpiredToken":
		return true
	}
	return false
}
