package service

// User-visible message contracts. The pairing and disconnect texts are load
// bearing: the gateway and its clients display them verbatim.
const (
	TextWaiting             = "Waiting for a chat partner..."
	TextConnected           = "You are now connected to a chat partner."
	TextAlreadyConnected    = "You are already connected to a chat partner."
	TextNotConnected        = "You are not connected to any chat partner."
	TextDisconnected        = "You have been disconnected."
	TextPartnerDisconnected = "Your chat partner has disconnected."
	TextUnsupportedKind     = "Unsupported message kind."
	TextNoPermission        = "You do not have permission to use this command."
	TextCannotBanOperator   = "You cannot ban this user because they are an admin."
	TextCaseNotFound        = "Report/Appeal not found."
	TextCaseResolved        = "This case has already been resolved."
	TextRetry               = "Something went wrong. Please try again."

	TextWelcome = "Welcome to the anonymous chat bot! This bot allows you to connect with random users and chat anonymously. " +
		"You can use /connect to find a chat partner, /disconnect to end the chat, /report to report a user, " +
		"and /appeal to appeal a ban. Use /rules to see the rules of this bot."

	TextHelp = "/start - Show the bot description\n" +
		"/connect - Find a chat partner\n" +
		"/disconnect - End the chat\n" +
		"/report <reason> - Report a user\n" +
		"/appeal - Appeal a ban\n" +
		"/rules - Show the rules\n" +
		"/ban <user_id> <reason> - Ban a user (admin only)\n" +
		"/unban <user_id> - Unban a user (admin only)"

	TextRules = "Rules of the bot:\n" +
		"1. Be respectful to others.\n" +
		"2. Do not share personal information.\n" +
		"3. Do not engage in illegal activities.\n" +
		"Violating these rules may result in a ban."
)
