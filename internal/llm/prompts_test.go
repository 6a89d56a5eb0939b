package llm

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestClassifyMessages(t *testing.T) {
	msgs := ClassifyMessages("passport photo location", "Passport is in the safe")

	gt.A(t, msgs).Length(8)
	gt.Equal(t, msgs[0], System(ClassifyInstruction))
	gt.Equal(t, msgs[1].Content, "SEARCH QUERY: passport photo location \n\nMEMORY: My passport photo is in C:/folder/")
	gt.Equal(t, msgs[2], Assistant("yes"))
	gt.Equal(t, msgs[5].Content, "SEARCH QUERY: favorite color \n\nMEMORY: The sky is blue.")
	gt.Equal(t, msgs[6], Assistant("no"))
	gt.Equal(t, msgs[7], User("SEARCH QUERY: passport photo location \n\nMEMORY: Passport is in the safe"))
}

func TestDecomposeMessages(t *testing.T) {
	msgs := DecomposeMessages("Where is my passport?")

	gt.A(t, msgs).Length(4)
	gt.Equal(t, msgs[0].Role, RoleSystem)
	gt.S(t, msgs[0].Content).Contains("Python list of queries")
	gt.S(t, msgs[2].Content).Contains("auto insurance provider")
	gt.Equal(t, msgs[3], User("Where is my passport?"))
}

func TestMemoriesMessage(t *testing.T) {
	msg := MemoriesMessage([]string{"I like blue.", "My passport photo is in C:/folder/"})
	gt.Equal(t, msg.Role, RoleUser)
	gt.Equal(t, msg.Content, "MEMORIES:\nI like blue.\nMy passport photo is in C:/folder/")
}
