//go:build pam

package authn

/*
#cgo LDFLAGS: -lpam
#include <security/pam_appl.h>
#include <stdlib.h>

int sysdispatch_pam_authenticate(const char *service, const char *user, const char *password, char **err_out);
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// PAMVerifier authenticates through the system's PAM stack, routing the
// conversation callback's prompts through the already-collected password
// rather than re-reading the tty, per spec.md §4.7.
type PAMVerifier struct {
	Service string
}

// NewPAMVerifier returns a PAMVerifier for the named PAM service (e.g.
// "sys").
func NewPAMVerifier(service string) *PAMVerifier {
	return &PAMVerifier{Service: service}
}

func (v *PAMVerifier) Verify(username string, password []byte) (bool, error) {
	cService := C.CString(v.Service)
	defer C.free(unsafe.Pointer(cService))
	cUser := C.CString(username)
	defer C.free(unsafe.Pointer(cUser))
	cPassword := C.CString(string(password))
	defer C.free(unsafe.Pointer(cPassword))

	var cErr *C.char
	rc := C.sysdispatch_pam_authenticate(cService, cUser, cPassword, &cErr)
	if rc != 0 {
		msg := "authentication failed"
		if cErr != nil {
			msg = C.GoString(cErr)
			C.free(unsafe.Pointer(cErr))
		}
		return false, fmt.Errorf("authn: pam: %s", msg)
	}
	return true, nil
}
