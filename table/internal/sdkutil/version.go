//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

// Package sdkutil provides internal utilities for the SDK.
package sdkutil

import (
	"fmt"
	"runtime"
)

const (
	// Major, minor and patch versions for the SDK.
	major = 1
	minor = 0
	patch = 0
)

var sdkVersion, userAgent string

// Sets sdkVersion and userAgent in package init function
func init() {
	sdkVersion = fmt.Sprintf("%d.%d.%d", major, minor, patch)
	// A sample user agent string: ydb-go-sdk/1.0.0 (go1.21; linux/amd64)
	userAgent = fmt.Sprintf("ydb-go-sdk/%s (%s; %s/%s)",
		sdkVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// SDKVersion returns the SDK version.
func SDKVersion() string {
	return sdkVersion
}

// UserAgent returns a descriptive string that can be attached to session
// create requests for server-side diagnostics.
func UserAgent() string {
	return userAgent
}
