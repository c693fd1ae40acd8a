package main

/*
#include <stdlib.h>
#include <string.h>
#include <security/pam_appl.h>
#include "pam.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/Paulkm2006/ssh-github-auth/pkg/conversation"
)

// pamConversation sends prompts through the application's PAM_CONV callback.
type pamConversation struct {
	pamh *C.pam_handle_t
}

func (p *pamConversation) Prompt(text string, style conversation.Style) (string, error) {
	cStyle, err := pamStyle(style)
	if err != nil {
		return "", err
	}
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	var reply *C.char
	rc := C.ghauth_converse(p.pamh, cStyle, cText, &reply)
	if reply != nil {
		defer func() {
			C.memset(unsafe.Pointer(reply), 0, C.strlen(reply))
			C.free(unsafe.Pointer(reply))
		}()
	}
	if err := conversationError(int(rc)); err != nil {
		return "", err
	}
	if reply == nil {
		if style == conversation.PromptEchoOff || style == conversation.PromptEchoOn {
			return "", fmt.Errorf("%w: no reply to prompt", conversation.ErrFailed)
		}
		return "", nil
	}
	return C.GoString(reply), nil
}

func pamStyle(style conversation.Style) (C.int, error) {
	switch style {
	case conversation.PromptEchoOff:
		return C.PAM_PROMPT_ECHO_OFF, nil
	case conversation.PromptEchoOn:
		return C.PAM_PROMPT_ECHO_ON, nil
	case conversation.ErrorMsg:
		return C.PAM_ERROR_MSG, nil
	case conversation.TextInfo:
		return C.PAM_TEXT_INFO, nil
	default:
		return 0, fmt.Errorf("%w: unsupported message style %d", conversation.ErrFailed, style)
	}
}

func conversationError(rc int) error {
	switch rc {
	case int(C.PAM_SUCCESS):
		return nil
	case int(C.GHAUTH_NO_CONV):
		return conversation.ErrUnavailable
	default:
		return fmt.Errorf("%w: conversation returned %d", conversation.ErrFailed, rc)
	}
}
