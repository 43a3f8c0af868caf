// Package chat connects the bot to the channel's Twitch IRC chat.
//
// Every channel message is published on the event bus as a chat.message
// event; Say sends a message back to the channel. ParseCommand splits a
// message into a lower-cased "!command" and its argument text.
//
// Credentials: the IRC client needs the bot username and a user OAuth token
// with chat:read and chat:edit scopes. The token is fetched through a
// TokenFunc on every (re)connect so a refreshed token is picked up.
package chat
