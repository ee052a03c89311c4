package dx

import (
	"errors"
	"fmt"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

// APIError is the error body DNAnexus returns with any non-2xx status:
//
//    {"error": {"type": "ResourceNotFound", "message": "..."}}
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

var ErrorUnauthorized = &cierr.Error{
	Type: cierr.User,
	Help: `The request to DNAnexus failed authentication

This most likely means the DX_TOKEN secret is missing, has expired or
has been revoked. Please generate a new API token in DNAnexus and
update the repository secret DX_TOKEN.
`,
	Err: errors.New("DNAnexus request failed authentication"),
}

// classify turns a DNAnexus error body into an error with a type, so
// that callers can decide whether it was their fault.
func classify(apiErr *APIError) error {
	switch apiErr.Type {
	case "ResourceNotFound":
		return &cierr.Error{
			Type: cierr.Missing,
			Help: "DNAnexus could not find the object requested:\n\n    " + apiErr.Message + "\n",
			Err:  apiErr,
		}
	case "InvalidAuthentication":
		return &cierr.Error{
			Type: cierr.User,
			Help: ErrorUnauthorized.Help,
			Err:  apiErr,
		}
	case "PermissionDenied", "InvalidInput", "InvalidState", "InvalidType", "SpendingLimitExceeded":
		return &cierr.Error{
			Type: cierr.User,
			Help: `DNAnexus refused the request

DNAnexus reported this error:

    ` + apiErr.Error() + `

which means the request was understood, but can't be done as asked.
Check the token has CONTRIBUTE access to the projects involved, and
that the configured production job IDs are still valid.
`,
			Err: apiErr,
		}
	default:
		return &cierr.Error{
			Type: cierr.Server,
			Help: `Error from DNAnexus

DNAnexus reported this error:

    ` + apiErr.Error() + `

which is probably a problem on the DNAnexus side. Re-run the check in a
while; if the problem persists, check https://status.dnanexus.com.
`,
			Err: apiErr,
		}
	}
}

// NewAPIError makes the same error the client would return for a
// DNAnexus error body of the given type.
func NewAPIError(errType, message string) error {
	return classify(&APIError{Type: errType, Message: message})
}
