package proc

// Signal numbers.
const (
	SIGKILL = 9
	SIGSEGV = 11
)

const (
	waitExited   = 0
	waitSignaled = 1
	waitMask     = 3
)

// MakeWaitExit encodes the status of a process that called exit.
func MakeWaitExit(code int) int {
	return code<<2 | waitExited
}

// MakeWaitSig encodes the status of a process killed by a signal.
func MakeWaitSig(sig int) int {
	return sig<<2 | waitSignaled
}

// WIfExited tells if the process exited by itself.
func WIfExited(status int) bool {
	return status&waitMask == waitExited
}

// WExitStatus returns the exit code of a process that exited by itself.
func WExitStatus(status int) int {
	return status >> 2
}

// WIfSignaled tells if the process was killed.
func WIfSignaled(status int) bool {
	return status&waitMask == waitSignaled
}

// WTermSig returns the signal that killed the process.
func WTermSig(status int) int {
	return status >> 2
}
