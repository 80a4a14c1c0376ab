package testutil

import "github.com/prilive-com/relaygo/api"

// Test constants for consistent test data.
const (
	// TestSecret is a credential secret for testing.
	TestSecret = "MTIzNDU2Nzg5MDEyMzQ1Njc4.GabcDE.fakefakefakefakefakefakefake"

	// TestSecret2 is a second, distinct credential secret.
	TestSecret2 = "OTg3NjU0MzIxMDk4NzY1NDMy.GxyzUV.otherotherotherotherotherother"

	// TestChannelID is a valid channel snowflake.
	TestChannelID = "112233445566778899"

	// TestChannelID2 is a second valid channel snowflake.
	TestChannelID2 = "998877665544332211"

	// TestAuthorID is the author returned in message replies.
	TestAuthorID = "555555555555555555"

	// TestAPIVersion is the API version clients use by default.
	TestAPIVersion = 9
)

// TestCredential returns the primary test credential labelled "primary".
func TestCredential() api.Credential {
	return api.NewCredential(TestSecret, "primary")
}

// TestCredential2 returns the secondary test credential labelled "secondary".
func TestCredential2() api.Credential {
	return api.NewCredential(TestSecret2, "secondary")
}
