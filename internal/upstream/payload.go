package upstream

type payload struct {
	Temporary             bool             `json:"temporary"`
	ModelName             string           `json:"modelName"`
	Message               string           `json:"message"`
	FileAttachments       []string         `json:"fileAttachments"`
	ImageAttachments      []string         `json:"imageAttachments"`
	DisableSearch         bool             `json:"disableSearch"`
	EnableImageGeneration bool             `json:"enableImageGeneration"`
	ReturnImageBytes      bool             `json:"returnImageBytes"`
	EnableImageStreaming  bool             `json:"enableImageStreaming"`
	ImageGenerationCount  int              `json:"imageGenerationCount"`
	ForceConcise          bool             `json:"forceConcise"`
	ToolOverrides         map[string]any   `json:"toolOverrides"`
	EnableSideBySide      bool             `json:"enableSideBySide"`
	SendFinalMetadata     bool             `json:"sendFinalMetadata"`
	IsReasoning           bool             `json:"isReasoning"`
	DisableTextFollowUps  bool             `json:"disableTextFollowUps"`
	DisableMemory         bool             `json:"disableMemory"`
	ForceSideBySide       bool             `json:"forceSideBySide"`
	IsAsyncChat           bool             `json:"isAsyncChat"`
	ModelMode             string           `json:"modelMode,omitempty"`
	CustomPersonality     string           `json:"customPersonality,omitempty"`
	ResponseMetadata      responseMetadata `json:"responseMetadata"`
}

type responseMetadata struct {
	RequestModelDetails requestModelDetails `json:"requestModelDetails"`
}

type requestModelDetails struct {
	ModelID string `json:"modelId"`
}

func (c *Client) payload(req ChatRequest) payload {
	return payload{
		Temporary:            c.temporary,
		ModelName:            req.Model,
		Message:              req.Message,
		FileAttachments:      []string{},
		ImageAttachments:     []string{},
		DisableSearch:        false,
		ImageGenerationCount: 2,
		ToolOverrides:        map[string]any{},
		EnableSideBySide:     true,
		SendFinalMetadata:    true,
		DisableTextFollowUps: true,
		DisableMemory:        true,
		ModelMode:            req.Mode,
		CustomPersonality:    req.CustomPersonality,
		ResponseMetadata: responseMetadata{
			RequestModelDetails: requestModelDetails{ModelID: req.Model},
		},
	}
}
