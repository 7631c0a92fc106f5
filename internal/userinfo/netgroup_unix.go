//go:build linux

package userinfo

/*
#include <netdb.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// InNetgroup queries the OS netgroup database (getnetgrent(3)/innetgr(3)),
// matching (hostname, username, domain="") against members of netgroup.
// There is no pure-Go or golang.org/x/sys/unix binding for innetgr(3); the
// glibc NSS netgroup lookup has no wire format to reimplement, so this is
// the one place outside the optional `pam`-tagged PAM back-end (authn)
// that talks to libc directly.
func InNetgroup(netgroup, hostname, username string) bool {
	cNetgroup := C.CString(netgroup)
	defer C.free(unsafe.Pointer(cNetgroup))
	cHost := C.CString(hostname)
	defer C.free(unsafe.Pointer(cHost))
	cUser := C.CString(username)
	defer C.free(unsafe.Pointer(cUser))

	return C.innetgr(cNetgroup, cHost, cUser, nil) != 0
}
