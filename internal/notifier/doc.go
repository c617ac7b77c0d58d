// Package notifier executes delivery decisions.
//
// # Dispatcher
//
// Submit queues a batch of decisions and returns immediately. Workers run the
// decisions of one batch concurrently, each as an independent unit: a pending
// attempt is appended to the log store, the channel sender is called under a
// per-channel deadline, and the attempt is closed as sent or failed. A failing
// or hung sender never holds back its siblings.
//
// There is no retry loop. A failed attempt is retried only through Resend,
// which appends a new attempt linked by the resend_of metadata key and leaves
// the original row untouched.
//
// Log store failures are reported on the Outcome and through hooks; they do
// not stop the send and do not change its status.
//
// # Pipeline
//
// Pipeline is the policy-side consumer of the change feed. It keeps the
// contact directory current, asks the policy engine for decisions and hands
// them to the dispatcher.
package notifier
