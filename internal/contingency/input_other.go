//go:build !unix

package contingency

import "io"

func inputReady(io.Reader) (ready, known bool) { return false, false }
