package transfer

// PostCreation is the API payload for creating a draft or scheduled post.
type PostCreation struct {
	Title            string  `json:"title"`
	Content          string  `json:"content"`
	Caption          string  `json:"caption"`
	ScheduledTime    string  `json:"scheduled_time"`
	SelectedChannels []int64 `json:"selected_channels"`
	MediaKeys        []struct {
		Key  string `json:"key"`
		Type string `json:"type"`
	} `json:"media_keys"`
	RequestApproval bool `json:"request_approval"`
}
