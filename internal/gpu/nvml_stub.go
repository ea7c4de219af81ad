//go:build !cgo

package gpu

import (
	"fmt"

	"imaged/pkg/types"
)

// queryNVML needs cgo; pure Go builds use nvidia-smi only.
func queryNVML() ([]types.GPU, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrUnavailable)
}
