//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

/*
Package table provides the session-based client for the remote query service.

The Client maintains a bounded pool of live sessions and wraps each unit of
work with automatic retry and transaction boundary management:

	c, err := table.NewClient(table.Config{
		Discovery: discovery,
		Dialer:    dialer,
	})
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	err = c.DoTx(ctx, func(ctx context.Context, s *table.Session) error {
		_, err := s.Execute(ctx, table.Query{Text: "UPSERT INTO t ..."})
		return err
	})

DoTx begins a serializable read-write transaction with the first statement
and commits it when the operation returns nil. Do leaves transaction
management to the operation unless transaction settings are supplied with
WithTxSettings.

Endpoint discovery, the RPC transport and authentication are consumed as the
Discovery and Dialer interfaces and are implemented outside this package.
*/
package table
