// Package dispatch runs the single-consumer loop that drains a FIFO queue of
// text messages to one channel, one send at a time.
//
// A Dispatcher is Stopped until Start is called. Start, Stop and Restart are
// idempotent and serialized, so at most one loop drains the queue at any time.
// Messages may be enqueued while stopped and wait for the next session.
//
// Each dequeued message produces exactly one Result. Messages dispatched with
// no channel or no credential are skipped: they fail without touching the
// sent counter. Every other message counts as sent, and the credential source
// advances each time the sent counter reaches a multiple of RotateEvery.
//
//	d := dispatch.New(rot, factory,
//	    dispatch.WithChannel("123456789012345678"),
//	    dispatch.WithOnSendResult(func(r dispatch.Result) { ... }),
//	)
//	d.Enqueue("hello")
//	_ = d.Start(ctx)
//	defer d.Stop()
package dispatch
