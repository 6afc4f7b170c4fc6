//go:build unix && !(linux && amd64)

package hotpatch

// Only Linux on amd64 has MAP_32BIT. Elsewhere we'll have to trust the OS to
// give the arena a suitable address.
//
// https://man.freebsd.org/cgi/man.cgi?mmap(2)
// https://developer.apple.com/library/archive/documentation/System/Conceptual/ManPages_iPhoneOS/man2/mmap.2.html
const arenaMapFlags = 0
