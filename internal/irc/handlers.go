package irc

// This file contains documentation for the IRC event handlers.
// The actual handler implementations are split across:
// - client.go: Connection lifecycle, WHOIS, identity tracking
// - commands.go: Bot command implementations

/*
Handler Summary:

Connection Events:
- 376/422 (onConnect): End of MOTD / MOTD missing - bot is connected
  - Clears tracked identities from any previous session
  - Identifies to NickServ
  - OPERs up
  - Joins configured channels and sends WHO for each

Identity Tracking (identity.Tracker.Observe):
- JOIN, NOTICE, PRIVMSG: remembers nick!user@host of the sender
- NICK: moves the identity to the new nick
- CHGHOST: replaces ident and host
- QUIT, PART, KICK, KILL, 401: forgets the nick
- 311 (RPL_WHOISUSER), 352 (RPL_WHOREPLY): remembers the reported identity

Private Messages:
- PRIVMSG (onPrivMsg): Handles private messages from users
  - Checks if sender is known IRC operator (cached)
  - If not known, initiates WHOIS check
  - If known oper, routes to command handler
  - !nban and !nkill forget the target and send WHOIS for it, so they always
    act on the address the server reports now

WHOIS Responses:
- 313 (onWhoisOper): RPL_WHOISOPERATOR - User is an IRC operator
  - Caches oper status by hostmask
  - Processes pending command
- 318 (onWhoisEnd): RPL_ENDOFWHOIS - End of WHOIS response
  - Cleans up pending check
  - Logs non-oper access attempts
  - Re-runs commands that were waiting on the WHOIS target; if no 311
    arrived the target is gone and the operator gets "No such nick"

Nick Issues:
- 432 (onNickHeld): ERR_ERRONEUSNICKNAME - Nick is held
  - Switches to alternate nick
  - Schedules RELEASE and nick change
- 433 (onNickInUse): ERR_NICKNAMEINUSE - Nick in use
  - Switches to alternate nick
  - Schedules GHOST and nick change

CTCP:
- CTCP_VERSION: Responds with bot version information
*/
