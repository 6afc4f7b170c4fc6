package mem

import "fmt"

// Protection is a page protection level. It mirrors the Windows page
// protection constants; each platform translates it to whatever it uses
// natively.
type Protection int

const (
	Execute Protection = iota + 1
	ExecuteRead
	ExecuteReadWrite
	ExecuteWriteCopy
	NoAccess
	ReadOnly
	ReadWrite
	WriteCopy
	GuardPage
	NoCache
	WriteCombine
)

var protectionNames = map[Protection]string{
	Execute:          "execute",
	ExecuteRead:      "execute-read",
	ExecuteReadWrite: "execute-read-write",
	ExecuteWriteCopy: "execute-write-copy",
	NoAccess:         "no-access",
	ReadOnly:         "read-only",
	ReadWrite:        "read-write",
	WriteCopy:        "write-copy",
	GuardPage:        "guard",
	NoCache:          "no-cache",
	WriteCombine:     "write-combine",
}

func (p Protection) String() string {
	if name, ok := protectionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protection(%d)", int(p))
}

// Executable reports whether code on a page with this protection can run.
func (p Protection) Executable() bool {
	switch p {
	case Execute, ExecuteRead, ExecuteReadWrite, ExecuteWriteCopy:
		return true
	}
	return false
}

// Writable reports whether a page with this protection can be written to.
func (p Protection) Writable() bool {
	switch p {
	case ExecuteReadWrite, ExecuteWriteCopy, ReadWrite, WriteCopy:
		return true
	}
	return false
}
