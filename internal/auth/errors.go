package auth

import "errors"

// ErrUnauthenticated means no credential, or a credential that fails
// structural/signature checks, was presented.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// ErrForbidden means the credential is valid but does not authorize the
// requested operation (e.g. a read-only token used for a write).
var ErrForbidden = errors.New("auth: forbidden")

// ErrReplay means an HMAC-signed peer message's timestamp falls outside the
// allowed clock-skew window.
var ErrReplay = errors.New("auth: timestamp outside replay window")
