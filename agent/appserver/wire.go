package appserver

// Wire method names of the thread/turn protocol. Requests flow out, the
// item/turn notifications flow in, and the approval methods arrive as
// inbound requests.
const (
	methodAccountRead    = "account/read"
	methodLoginStart     = "account/login/start"
	methodLoginCompleted = "account/login/completed"

	methodModelList = "model/list"

	methodThreadStart = "thread/start"
	methodTurnStart   = "turn/start"

	methodItemDelta     = "item/agentMessage/delta"
	methodItemCompleted = "item/completed"
	methodTurnCompleted = "turn/completed"
	methodTurnFailed    = "turn/failed"
)

type accountReadResult struct {
	Account *struct {
		Email string `json:"email,omitempty"`
		Plan  string `json:"plan,omitempty"`
	} `json:"account"`
}

type loginStartResult struct {
	LoginID string `json:"loginId"`
	AuthURL string `json:"authUrl"`
}

type loginCompletedParams struct {
	LoginID string `json:"loginId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type modelListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type wireModel struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"displayName"`
	Default          bool     `json:"default,omitempty"`
	ReasoningEfforts []string `json:"reasoningEfforts,omitempty"`
}

type modelListResult struct {
	Models     []wireModel `json:"models"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

type threadStartResult struct {
	Thread struct {
		ID string `json:"id"`
	} `json:"thread"`
}

// inputItem is one ordered content item of a turn's input: the text item
// first, then one item per image attachment.
type inputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

const (
	itemTypeText       = "text"
	itemTypeLocalImage = "localImage"
	itemTypeImage      = "image"
)

type wireSandboxPolicy struct {
	Mode          string   `json:"mode"`
	WritableRoots []string `json:"writableRoots,omitempty"`
	NetworkAccess bool     `json:"networkAccess"`
}

type turnStartParams struct {
	ThreadID        string            `json:"threadId"`
	Input           []inputItem       `json:"input"`
	Instructions    string            `json:"instructions,omitempty"`
	Model           string            `json:"model,omitempty"`
	ReasoningEffort string            `json:"reasoningEffort,omitempty"`
	SandboxPolicy   wireSandboxPolicy `json:"sandboxPolicy"`
	ApprovalPolicy  string            `json:"approvalPolicy"`
}

type turnStartResult struct {
	Turn struct {
		ID string `json:"id"`
	} `json:"turn"`
}

type itemDeltaParams struct {
	TurnID string `json:"turnId"`
	ItemID string `json:"itemId,omitempty"`
	Delta  string `json:"delta"`
}

type wireItem struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type itemCompletedParams struct {
	TurnID string   `json:"turnId"`
	Item   wireItem `json:"item"`
}

type turnCompletedParams struct {
	Turn struct {
		ID string `json:"id"`
	} `json:"turn"`
}

type turnFailedParams struct {
	TurnID string `json:"turnId"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}
