//go:build !amd64 && !arm64

package hotpatch

import (
	"errors"
	"runtime"
)

var errUnsupportedArch = errors.New("relay backend does not support " + runtime.GOARCH)

const jumpSize = 0

func jumpInRange(from, to uintptr) bool {
	return false
}

func insertJump(buf []byte, dest uintptr) error {
	return errUnsupportedArch
}

func findResumeJump(body []byte) (int, error) {
	return -1, errUnsupportedArch
}

func relocatePrologue(body []byte, need, resume int, dest []byte) ([]byte, error) {
	return nil, errUnsupportedArch
}

func retargetJump(body []byte, off int, dest uintptr) error {
	return errUnsupportedArch
}

func disassemble(code []byte) (string, error) {
	return "", errUnsupportedArch
}
