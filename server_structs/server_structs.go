/***************************************************************
 *
 * Copyright (C) 2026, Inkhorn Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package server_structs holds the request and response types shared
// between the route layer and its callers.
package server_structs

import "time"

type ApiRespStatus string

const (
	RespOK     ApiRespStatus = "success"
	RespFailed ApiRespStatus = "error"
)

// SimpleApiResp is the envelope for API responses carrying no payload.
type SimpleApiResp struct {
	Status ApiRespStatus `json:"status"`
	Msg    string        `json:"msg,omitempty"`
}

// OAuthLoginRequest binds the query parameters of the login endpoint.
// NextUrl is where the browser is sent after a successful callback.
type OAuthLoginRequest struct {
	NextUrl string `form:"next_url"`
}

// OAuthCallbackRequest binds the query parameters the provider appends
// to the redirect URI.
type OAuthCallbackRequest struct {
	State string `form:"state"`
	Code  string `form:"code"`
	Error string `form:"error"`
}

// LinkedProvider summarizes one linked provider for the account page.
type LinkedProvider struct {
	Provider    string    `json:"provider"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	LinkedAt    time.Time `json:"linkedAt"`
}

// LinkedProvidersResp is the response of the provider listing endpoint.
type LinkedProvidersResp struct {
	Status    ApiRespStatus    `json:"status"`
	Providers []LinkedProvider `json:"providers"`
}
