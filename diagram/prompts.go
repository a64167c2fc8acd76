package diagram

// Each template takes the extracted facts string as its only parameter.

const dfdPrompt = `Create a simple Data Flow Diagram (DFD) in Mermaid from this extracted info:
%s

Use flowchart syntax like:
flowchart TD
  A[User] --> B[Submit]
  B --> C[System]

Keep it to 5-10 nodes max. Output ONLY the Mermaid code.
`

const logicPrompt = `Create a decision flowchart in Mermaid from the RULES within:
%s

Use:
graph TD
  Start([Start]) --> IsExternal{External?}
  IsExternal -->|Yes| Allocate[Allocate to Admin]
  IsExternal -->|No| Queue[Queue for Triage]

Output ONLY the Mermaid code.
`

const erdPrompt = `Create an Entity-Relationship Diagram (ERD) in Mermaid from the entities and relationships implied here:
%s

Use: erDiagram; with tables, PK/FK, and relationships like ||--o{ .
Output ONLY the Mermaid code, e.g.:
erDiagram
  USER {
    int id PK
    string name
  }
  ISSUE {
    int id PK
    int user_id FK
    string title
  }
  USER ||--o{ ISSUE : "raises"
`

var prompts = map[Kind]string{
	KindDFD:   dfdPrompt,
	KindLogic: logicPrompt,
	KindERD:   erdPrompt,
}
