//go:build linux && arm64

package forkhook

/*
#include <pthread.h>

extern void asanrtForkChild(void);

static int asanrt_install_atfork(void) {
	return pthread_atfork(NULL, NULL, asanrtForkChild);
}
*/
import "C"
import "errors"

var errAtforkFailed = errors.New("forkhook: pthread_atfork failed")

func installAtFork() error {
	if C.asanrt_install_atfork() != 0 {
		return errAtforkFailed
	}
	return nil
}

//export asanrtForkChild
func asanrtForkChild() {
	runChildHook()
}
