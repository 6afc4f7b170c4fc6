// Package hotpatch intercepts calls to functions in the running process.
//
// A [Hook] redirects one function to a replacement with the same signature.
// The replacement can still reach the code it replaced through
// [Hook.Process]:
//
//	var h = hotpatch.NewHookFunc(time.Now)
//
//	func fakeNow() time.Time {
//		return h.Process()().Add(-24 * time.Hour)
//	}
//
//	func main() {
//		if err := h.Enable(fakeNow); err != nil {
//			log.Fatal(err)
//		}
//		defer h.Close()
//		...
//	}
//
// Hooks go through an [Engine], which owns the trampolines. The default engine
// writes a jump over the target's entry. The instructions it overwrites are
// copied to an executable arena and followed by a jump back into the target,
// and that copy serves as the original. Other implementations can be plugged
// in through [Backend].
//
// Byte-level patching without a hook is in the mem subpackage.
//
// Limitations:
//   - The default backend only supports amd64 and arm64
//   - Relies on internal Go APIs that can break at any time
//   - Silently fails to intercept inlined calls
//   - Patching a function while another goroutine is running it is not
//     supported
//   - A target fails to hook if its first few instructions make a call, or
//     if the replacement or the arena is more than 2GiB (amd64) or 128MiB
//     (arm64) away from it
package hotpatch
