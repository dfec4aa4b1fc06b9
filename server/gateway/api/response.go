package api

import (
	"chat_server/server/common/transport/httpresp"
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse
type IDResponse = httpresp.IDResponse
type URLResponse = httpresp.URLResponse
type TokenResponse = httpresp.TokenResponse

type HealthResponse struct {
	Status string `json:"status"`
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewOKResponse() OKResponse {
	return httpresp.NewOKResponse()
}

func NewIDResponse(id string) IDResponse {
	return httpresp.NewIDResponse(id)
}

func NewURLResponse(url string) URLResponse {
	return httpresp.NewURLResponse(url)
}

func NewTokenResponse(accessToken, userID, name, role string) TokenResponse {
	return httpresp.NewTokenResponse(accessToken, userID, name, role)
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}
