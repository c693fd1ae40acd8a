// Command pam_github is the PAM module. Build it with
//
//	go build -buildmode=c-shared -o pam_github.so ./cmd/pam_github
//
// and reference it from the PAM stack, for example in /etc/pam.d/sshd:
//
//	auth sufficient pam_github.so org=acme client_id=Iv1.0123 team=ops auto_create_user
package main

/*
#cgo LDFLAGS: -lpam
#include <security/pam_appl.h>
#include "pam.h"
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/Paulkm2006/ssh-github-auth/pkg/app"
	"github.com/Paulkm2006/ssh-github-auth/pkg/login"
)

var (
	pamSuccess     = C.int(C.PAM_SUCCESS)
	pamUserUnknown = C.int(C.PAM_USER_UNKNOWN)
	pamServiceErr  = C.int(C.PAM_SERVICE_ERR)
)

func main() {}

//export pam_sm_authenticate
func pam_sm_authenticate(pamh *C.pam_handle_t, flags, argc C.int, argv **C.char) (code C.int) {
	defer func() {
		if r := recover(); r != nil {
			code = pamServiceErr
		}
	}()

	var cUser *C.char
	if rc := C.ghauth_get_user(pamh, &cUser); rc != C.PAM_SUCCESS {
		return rc
	}
	if cUser == nil {
		return pamServiceErr
	}

	result := app.Authenticate(context.Background(), app.Options{
		Username:   C.GoString(cUser),
		Args:       goArgs(argc, argv),
		Prompter:   &pamConversation{pamh: pamh},
		Service:    stringItem(pamh, C.PAM_SERVICE),
		RemoteHost: stringItem(pamh, C.PAM_RHOST),
	})
	return resultCode(result)
}

//export pam_sm_setcred
func pam_sm_setcred(pamh *C.pam_handle_t, flags, argc C.int, argv **C.char) C.int {
	return pamSuccess
}

//export pam_sm_acct_mgmt
func pam_sm_acct_mgmt(pamh *C.pam_handle_t, flags, argc C.int, argv **C.char) C.int {
	return pamSuccess
}

//export pam_sm_open_session
func pam_sm_open_session(pamh *C.pam_handle_t, flags, argc C.int, argv **C.char) C.int {
	return pamSuccess
}

//export pam_sm_close_session
func pam_sm_close_session(pamh *C.pam_handle_t, flags, argc C.int, argv **C.char) C.int {
	return pamSuccess
}

//export pam_sm_chauthtok
func pam_sm_chauthtok(pamh *C.pam_handle_t, flags, argc C.int, argv **C.char) C.int {
	return pamSuccess
}

func resultCode(result login.Result) C.int {
	switch result {
	case login.Success:
		return pamSuccess
	case login.UserUnknown:
		return pamUserUnknown
	default:
		return pamServiceErr
	}
}

func goArgs(argc C.int, argv **C.char) []string {
	if argc <= 0 || argv == nil {
		return nil
	}
	args := make([]string, 0, int(argc))
	for _, arg := range unsafe.Slice(argv, int(argc)) {
		args = append(args, C.GoString(arg))
	}
	return args
}

func stringItem(pamh *C.pam_handle_t, item C.int) string {
	value := C.ghauth_get_string_item(pamh, item)
	if value == nil {
		return ""
	}
	return C.GoString(value)
}
