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

package config

import (
	"net"
	"net/http"
	"sync"

	"github.com/inkhorn/inkhorn/param"
)

var (
	// Global transport shared by all outbound provider calls
	transport *http.Transport

	onceTransport sync.Once
)

// GetTransport returns the process-wide HTTP transport, creating it on
// first use.  All provider endpoint calls go through this transport so
// that dial and TLS timeouts are applied uniformly.
func GetTransport() *http.Transport {
	onceTransport.Do(setupTransport)
	return transport
}

// GetClient returns an http.Client wrapping the shared transport.
func GetClient() *http.Client {
	return &http.Client{Transport: GetTransport()}
}

func setupTransport() {
	dialer := net.Dialer{
		Timeout:   param.Transport_DialerTimeout.GetDuration(),
		KeepAlive: param.Transport_DialerKeepAlive.GetDuration(),
	}

	transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          param.Transport_MaxIdleConns.GetInt(),
		IdleConnTimeout:       param.Transport_IdleConnTimeout.GetDuration(),
		TLSHandshakeTimeout:   param.Transport_TLSHandshakeTimeout.GetDuration(),
		ExpectContinueTimeout: param.Transport_ExpectContinueTimeout.GetDuration(),
		ResponseHeaderTimeout: param.Transport_ResponseHeaderTimeout.GetDuration(),
	}
}

func resetTransport() {
	transport = nil
	onceTransport = sync.Once{}
}
