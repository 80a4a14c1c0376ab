// Package rotator holds the ordered credential set a relay dispatches with
// and the cursor that selects the current credential.
//
// A Rotator is safe for concurrent use: the shell may add, remove or list
// credentials while the dispatch goroutine reads and advances the cursor.
//
//	r := rotator.New()
//	r.OnChange(func(c rotator.Change) {
//	    log.Printf("now using %s", c.Credential.Label)
//	})
//	r.Add(api.NewCredential(secret, "bot1"))
//	cred, ok := r.Current()
package rotator
