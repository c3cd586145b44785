package dto

import "specforge/internal/domain"

// RecordsQuery holds the query parameters of a row listing.
type RecordsQuery struct {
	PaginationRequest
	IncludeDefective bool `form:"include_defective"`
}

// RecordsResponse is one page of stored rows.
type RecordsResponse = GenericListResponse[domain.Row]

// LabelsResponse maps row ids to their rendered labels.
type LabelsResponse struct {
	Entity string            `json:"entity"`
	Labels map[string]string `json:"labels"`
}
