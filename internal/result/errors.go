package result

import "errors"

var errNilFailure = errors.New("result: failure without an error")
