package mem

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// mapping is one line of /proc/self/maps.
type mapping struct {
	start, end uintptr
	prot       uint32
}

// readMappings parses /proc/self/maps. Lines look like:
//
//	559576822000-559576827000 r-xp 00002000 00:1a 4586   /usr/bin/cat
func readMappings() ([]mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var mappings []mapping
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m, err := parseMapping(scanner.Text())
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, scanner.Err()
}

func parseMapping(line string) (mapping, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return mapping{}, fmt.Errorf("malformed maps line %q", line)
	}

	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return mapping{}, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return mapping{}, err
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return mapping{}, err
	}

	perms := fields[1]
	if len(perms) < 3 {
		return mapping{}, fmt.Errorf("malformed permissions %q", perms)
	}
	var prot uint32
	if perms[0] == 'r' {
		prot |= unix.PROT_READ
	}
	if perms[1] == 'w' {
		prot |= unix.PROT_WRITE
	}
	if perms[2] == 'x' {
		prot |= unix.PROT_EXEC
	}

	return mapping{start: uintptr(start), end: uintptr(end), prot: prot}, nil
}

// regionCommitted reports whether addr is in a mapping that allows some
// access. Linux has no separate reserved state; a PROT_NONE mapping is how
// address space gets reserved, the Go heap's included, so it counts as
// uncommitted like a MEM_RESERVE region on Windows.
func regionCommitted(addr uintptr) bool {
	mappings, err := readMappings()
	if err != nil {
		return false
	}
	for _, m := range mappings {
		if addr >= m.start && addr < m.end {
			return m.prot != unix.PROT_NONE
		}
	}
	return false
}

// querySpans returns the protection of every mapping in [start,
// start+length). The whole range must be mapped.
func querySpans(start, length uintptr) ([]span, error) {
	mappings, err := readMappings()
	if err != nil {
		return nil, err
	}

	end := start + length
	next := start
	var spans []span

	// The kernel lists mappings in address order.
	for _, m := range mappings {
		if m.end <= next || m.start >= end {
			continue
		}
		if m.start > next {
			return nil, fmt.Errorf("0x%x-0x%x is not mapped: %w", next, m.start, unix.ENOMEM)
		}
		s := span{start: next, end: min(m.end, end), prot: m.prot}
		spans = append(spans, s)
		next = s.end
		if next == end {
			return spans, nil
		}
	}

	return nil, fmt.Errorf("0x%x-0x%x is not mapped: %w", next, end, unix.ENOMEM)
}
