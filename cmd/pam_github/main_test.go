//go:build cgo

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Paulkm2006/ssh-github-auth/pkg/conversation"
	"github.com/Paulkm2006/ssh-github-auth/pkg/login"
)

func TestResultCode(t *testing.T) {
	require.Equal(t, pamSuccess, resultCode(login.Success))
	require.Equal(t, pamUserUnknown, resultCode(login.UserUnknown))
	require.Equal(t, pamServiceErr, resultCode(login.ServiceError))
}

func TestPamStyle(t *testing.T) {
	styles := []conversation.Style{
		conversation.PromptEchoOff,
		conversation.PromptEchoOn,
		conversation.ErrorMsg,
		conversation.TextInfo,
	}
	seen := map[int]bool{}
	for _, style := range styles {
		code, err := pamStyle(style)
		require.NoError(t, err)
		seen[int(code)] = true
	}
	require.Len(t, seen, len(styles))

	_, err := pamStyle(conversation.Style(42))
	require.ErrorIs(t, err, conversation.ErrFailed)
}

func TestConversationError(t *testing.T) {
	require.NoError(t, conversationError(int(pamSuccess)))
	require.ErrorIs(t, conversationError(-1), conversation.ErrUnavailable)
	require.ErrorIs(t, conversationError(19), conversation.ErrFailed)
}
