// Package testutil provides testing utilities for relaygo.
//
// This package is intended for internal testing only and should not be imported
// by external packages.
//
// # Mock API Server
//
// MockAPIServer stands in for the messaging API:
//
//	server := testutil.NewMockServer(t)
//	server.OnMessages(testutil.TestChannelID, testutil.Sequence(
//	    func(w http.ResponseWriter, r *http.Request) { testutil.ReplyServerError(w, 503) },
//	    testutil.ReplyEcho("42"),
//	))
//	// Use server.BaseURL() as the API base URL
//
// # Request Capture
//
// All requests are automatically captured and can be inspected:
//
//	cap := server.LastCapture()
//	cap.AssertMethod(t, "POST")
//	cap.AssertJSONField(t, "content", "hello")
//
// # Fake Sleeper
//
// FakeSleeper records sleep calls without actually sleeping:
//
//	sleeper := &testutil.FakeSleeper{}
//	// Pass to client via WithSleeper option
//	assert.Equal(t, 2*time.Second, sleeper.LastCall())
package testutil
