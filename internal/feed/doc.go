// Package feed is the entity change feed.
//
// Raw changes are decoded and validated at the boundary (Decode) into typed
// domain.ChangeEvent values, then fanned out by a Hub to independent
// subscriptions. Each subscription owns its channel:
//   - the notification pipeline subscribes with Block so no event is lost
//   - live sessions subscribe with Drop so a slow client never stalls others
package feed
