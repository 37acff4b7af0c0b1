package media

// SegmentRequestBody is the JSON shape of POST /segments.
type SegmentRequestBody struct {
	VideoID           VideoID           `json:"videoId"`
	StartTimestamp    float64           `json:"startTimestamp"`
	Duration          *float64          `json:"duration,omitempty"`
	CapabilityProfile CapabilityProfile `json:"capabilityProfile"`
	CorrelationID     string            `json:"correlationId"`
}

// SegmentResponseBody is the JSON shape of a successful segment response.
// encoding/json renders VideoContent as base64.
type SegmentResponseBody struct {
	CorrelationID string  `json:"correlationId"`
	VideoContent  []byte  `json:"videoContentBase64"`
	EndTimestamp  float64 `json:"endTimestamp"`
	Duration      float64 `json:"duration"`
	EndOfStream   bool    `json:"endOfStream"`
}

// ErrorBody is returned with every non-2xx response.
type ErrorBody struct {
	CorrelationID string    `json:"correlationId,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind"`
	Message       string    `json:"message"`
}

// ThumbnailEntry is one row of GET /thumbnails.
type ThumbnailEntry struct {
	VideoID      VideoID `json:"videoId"`
	VideoName    string  `json:"videoName"`
	ThumbnailURL string  `json:"thumbnailUrl"`
}

// ToRequest converts the wire body into a SegmentRequest. A missing duration
// is left as zero for the server to default.
func (b SegmentRequestBody) ToRequest() SegmentRequest {
	req := SegmentRequest{
		VideoID:       b.VideoID,
		Start:         FromSeconds(b.StartTimestamp),
		CorrelationID: b.CorrelationID,
		Profile:       b.CapabilityProfile.Normalize(),
	}
	if b.Duration != nil {
		req.Duration = FromSeconds(*b.Duration)
	}
	return req
}

// NewSegmentRequestBody converts a SegmentRequest to its wire form.
func NewSegmentRequestBody(req SegmentRequest) SegmentRequestBody {
	body := SegmentRequestBody{
		VideoID:           req.VideoID,
		StartTimestamp:    Seconds(req.Start),
		CapabilityProfile: req.Profile,
		CorrelationID:     req.CorrelationID,
	}
	if req.Duration > 0 {
		d := Seconds(req.Duration)
		body.Duration = &d
	}
	return body
}

// NewSegmentResponseBody converts a SegmentResponse to its wire form.
func NewSegmentResponseBody(resp SegmentResponse) SegmentResponseBody {
	return SegmentResponseBody{
		CorrelationID: resp.CorrelationID,
		VideoContent:  resp.Payload,
		EndTimestamp:  Seconds(resp.End),
		Duration:      Seconds(resp.Duration),
		EndOfStream:   resp.EndOfStream,
	}
}

// ToResponse converts the wire body into a SegmentResponse.
func (b SegmentResponseBody) ToResponse() SegmentResponse {
	return SegmentResponse{
		CorrelationID: b.CorrelationID,
		Payload:       b.VideoContent,
		End:           FromSeconds(b.EndTimestamp),
		Duration:      FromSeconds(b.Duration),
		EndOfStream:   b.EndOfStream,
	}
}
