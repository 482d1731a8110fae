//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

/*
This is a Go SDK for the YDB query service.

The table package contains the client, the session pool and the retrying
transactional execution wrappers Do and DoTx. See the table package
documentation for usage.
*/
package ydb
