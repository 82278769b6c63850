package rtspsession

import (
	"context"

	"github.com/looplab/fsm"
)

// State names mirror the RTSP session lifecycle literally so the fsm.Events
// table is a direct transcription rather than a reinterpretation.
const (
	StateReadingFirstRequest = "ReadingFirstRequest"
	StateHTTPFilter          = "HTTPFilter"
	StateWaitingToBindTunnel = "WaitingToBindTunnel"
	StateSocketBoundIntoTunnel = "SocketBoundIntoTunnel"
	StateReadingRequest      = "ReadingRequest"
	StateHaveNonTunnelMessage = "HaveNonTunnelMessage"
	StateFilteringRequest    = "FilteringRequest"
	StateRoutingRequest      = "RoutingRequest"
	StateAuthenticatingRequest = "AuthenticatingRequest"
	StateAuthorizing         = "Authorizing"
	StatePreprocessing       = "Preprocessing"
	StateProcessing          = "Processing"
	StatePostProcessing      = "PostProcessing"
	StateSendingResponse     = "SendingResponse"
	StateCleaningUp          = "CleaningUp"
	StateTerminated          = "Terminated"
)

// newFSM builds the state machine for one RTSP Session, grounded on
// arzzra-soft_phone/pkg/dialog/dialog.go's initFSM (looplab/fsm.NewFSM
// with an Events table and an "after_event" callback that mirrors the
// new state onto the owning struct).
func newFSM(s *Session) *fsm.FSM {
	return fsm.NewFSM(
		StateReadingFirstRequest,
		fsm.Events{
			{Name: "parsedOK", Src: []string{StateReadingFirstRequest}, Dst: StateHTTPFilter},
			{Name: "transportError", Src: []string{StateReadingFirstRequest, StateReadingRequest}, Dst: StateTerminated},

			{Name: "tunnelGET", Src: []string{StateHTTPFilter}, Dst: StateWaitingToBindTunnel},
			{Name: "tunnelPOST", Src: []string{StateHTTPFilter}, Dst: StateSocketBoundIntoTunnel},
			{Name: "plainRTSP", Src: []string{StateHTTPFilter}, Dst: StateHaveNonTunnelMessage},
			{Name: "tunnelBound", Src: []string{StateWaitingToBindTunnel}, Dst: StateSocketBoundIntoTunnel},
			{Name: "beginReadingTunnelled", Src: []string{StateSocketBoundIntoTunnel}, Dst: StateReadingRequest},

			{Name: "nextRequest", Src: []string{StateCleaningUp}, Dst: StateReadingRequest},
			{Name: "parsedNonTunnel", Src: []string{StateReadingRequest}, Dst: StateHaveNonTunnelMessage},

			{Name: "toFilter", Src: []string{StateHaveNonTunnelMessage}, Dst: StateFilteringRequest},
			{Name: "toRoute", Src: []string{StateFilteringRequest}, Dst: StateRoutingRequest},
			{Name: "toAuthenticate", Src: []string{StateRoutingRequest}, Dst: StateAuthenticatingRequest},
			{Name: "toAuthorize", Src: []string{StateAuthenticatingRequest}, Dst: StateAuthorizing},
			{Name: "toPreprocess", Src: []string{StateAuthorizing}, Dst: StatePreprocessing},
			{Name: "toProcess", Src: []string{StatePreprocessing}, Dst: StateProcessing},
			{Name: "toPostProcess", Src: []string{StateProcessing}, Dst: StatePostProcessing},
			{Name: "toSendResponse", Src: []string{StatePostProcessing}, Dst: StateSendingResponse},
			{Name: "toCleanUp", Src: []string{StateSendingResponse}, Dst: StateCleaningUp},

			{Name: "kill", Src: []string{
				StateReadingFirstRequest, StateHTTPFilter, StateWaitingToBindTunnel,
				StateReadingRequest, StateHaveNonTunnelMessage, StateFilteringRequest,
				StateRoutingRequest, StateAuthenticatingRequest, StateAuthorizing,
				StatePreprocessing, StateProcessing, StatePostProcessing,
				StateSendingResponse, StateCleaningUp,
			}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.onStateChange(e.Dst)
			},
		},
	)
}
