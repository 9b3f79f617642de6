package game

// Store path layout. Everything a group owns lives under groups/<code>.

const GroupsPath = "groups"

func GroupPath(code string) string { return GroupsPath + "/" + code }

func PlayersPath(code string) string { return GroupPath(code) + "/players" }

func PlayerPath(code, username string) string { return PlayersPath(code) + "/" + username }

func StatusPath(code string) string { return GroupPath(code) + "/status" }

func GameStatePath(code string) string { return GroupPath(code) + "/gameState" }

func ChatPath(code string) string { return GroupPath(code) + "/chat" }
