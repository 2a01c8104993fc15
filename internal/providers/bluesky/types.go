package bluesky

// Wire shapes for the XRPC endpoints this provider consumes. Only the fields
// the pipeline reads are declared; everything else in the payload is ignored.

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
	Handle    string `json:"handle"`
}

type xrpcErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type actorView struct {
	Did         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type postRecord struct {
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs"`
}

type postView struct {
	URI         string     `json:"uri"`
	CID         string     `json:"cid"`
	Author      actorView  `json:"author"`
	Record      postRecord `json:"record"`
	LikeCount   *int64     `json:"likeCount"`
	ReplyCount  *int64     `json:"replyCount"`
	RepostCount *int64     `json:"repostCount"`
	QuoteCount  *int64     `json:"quoteCount"`
	IndexedAt   string     `json:"indexedAt"`
}

type searchPostsResponse struct {
	Posts  []postView `json:"posts"`
	Cursor *string    `json:"cursor"`
}

type feedItem struct {
	Post postView `json:"post"`
}

type authorFeedResponse struct {
	Feed   []feedItem `json:"feed"`
	Cursor *string    `json:"cursor"`
}
