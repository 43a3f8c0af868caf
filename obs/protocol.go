package obs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// Event subscription bits.
const (
	subScenes     = 1 << 2
	subFilters    = 1 << 5
	subSceneItems = 1 << 7

	eventSubscriptions = subScenes | subFilters | subSceneItems
)

// Request types used by the bot.
const (
	ReqGetVersion             = "GetVersion"
	ReqGetSceneItemID         = "GetSceneItemId"
	ReqSetSceneItemEnabled    = "SetSceneItemEnabled"
	ReqGetSceneItemList       = "GetSceneItemList"
	ReqSetCurrentProgramScene = "SetCurrentProgramScene"
	ReqGetSourceFilter        = "GetSourceFilter"
	ReqSetSourceFilterEnabled = "SetSourceFilterEnabled"
	ReqGetSourceFilterList    = "GetSourceFilterList"
)

// Event types the bot reacts to.
const (
	EventSceneItemEnableStateChanged    = "SceneItemEnableStateChanged"
	EventSourceFilterEnableStateChanged = "SourceFilterEnableStateChanged"
	EventCurrentProgramSceneChanged     = "CurrentProgramSceneChanged"
)

var (
	// ErrNotConnected is returned while no identified session exists.
	ErrNotConnected = errors.New("obs: not connected")
	// ErrUnsupportedRequest is returned for requests the server does not advertise.
	ErrUnsupportedRequest = errors.New("obs: request not available")
)

// RequestError is a request the server answered with a failure status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obs: %s failed with code %d", e.RequestType, e.Code)
	}
	return fmt.Sprintf("obs: %s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
}

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestFrame struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type responseFrame struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

type eventFrame struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

// authResponse computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	sum := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(sum[:])
}
